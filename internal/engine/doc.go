// Package engine is the process boundary to the libraries-repository-engine
// binary under test.
//
// The harness never links the engine. It starts the binary with a command
// line, waits for it to exit and inspects the exit status and captured
// output streams. Runner abstracts that so tests can substitute an
// in-process fake.
//
// Engine command-line contract:
//
//	sync --config-file CFG MANIFEST
//	modify --config-file CFG [--repo-url URL | --types CSV] LIBRARY_NAME
//	remove --config-file CFG LIBRARY_NAME[@VERSION]...
//	help SUBCOMMAND
//
// Every failure is reported by the engine as a non-zero exit status plus a
// human-readable message on stderr. Kind classifies the message so scenarios
// can state which class of failure they provoke.
package engine
