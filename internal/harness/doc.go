// Package harness verifies the libraries-repository-engine end to end.
//
// A scenario runs the engine one or more times in a private sandbox and
// checks what each run published: the database, the index, the release
// archives, the clones and the per-repository logs. Golden fixtures are
// templates rendered with the sandbox's paths before comparison, and both
// sides go through the same normalization so timestamps, checksums and small
// archive size drifts never cause failures.
//
// # Scenario Format
//
//	name: modify_repo_url
//	description: "Relocating one library leaves the others alone"
//	values:
//	  new_url: https://gitlab.com/foo-owner/bar-repo.git
//	steps:
//	  - name: sync
//	    args: [sync, --config-file, "${config_file}", "${testdata}/repos/modify.txt"]
//	    checks:
//	      - type: snapshot
//	        label: before
//	  - name: relocate
//	    args: [modify, --config-file, "${config_file}", --repo-url, "${new_url}", SpacebrewYun]
//	    checks:
//	      - type: library_repository
//	        library: SpacebrewYun
//	        value: ${new_url}
//	      - type: unchanged
//	        library: ArduinoIoTCloudBearSSL
//	        label: before
//
// Step arguments and check fields are templates; see Values for the names
// every sandbox provides. A step without an expect clause must exit
// successfully. A failing expectation stops the scenario.
//
// # Two-Pass Protocol
//
// RunTwoPass runs the sync command twice over the same manifest and working
// directory and verifies each pass against its own fixture set, then checks
// the two passes published equivalent documents.
//
// # Ledger
//
// Every snapshot check is persisted in the SQLite ledger (internal/store), so
// idempotence and canary checks compare against recorded state rather than
// state held in memory.
package harness
