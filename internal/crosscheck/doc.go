// Package crosscheck validates published artifacts against the bytes on
// disk, without any golden fixture.
//
// Every release record names a download URL, a size and a checksum. Stripping
// the base download URL from the URL yields a path relative to the libraries
// folder; the archive found there must have exactly the recorded size and
// SHA-256 digest. The check runs separately over the database and over the
// index so that either document drifting from the archives is caught.
package crosscheck
