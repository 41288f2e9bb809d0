// Package libdb reads the documents the engine publishes: the library
// database (db.json) and the public library index (library_index.json).
//
// Documents are decoded into generic records rather than fixed structs. The
// engine adds fields over time (Author, Dependencies, ...) and every field
// must take part in golden comparison whether or not the harness knows its
// meaning. Typed accessors cover the fields the harness reasons about.
//
// Database file:
//
//	{ "Libraries": [{Name, Repository, Types...}],
//	  "Releases":  [{LibraryName, Version, URL, Size, Checksum, Types, Log}] }
//
// Index file:
//
//	{ "libraries": [{name, version, url, size, checksum}] }
package libdb
