// Package audit keeps a trail of changes made to a device's macros and
// engine: who changed what, and through which surface.
//
// Entries are written by the API after a mutation succeeds and listed newest
// first. A failed audit write never undoes the change it describes.
package audit
