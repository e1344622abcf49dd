// Package elfobj writes small ELF64 relocatable objects and reads back the
// few header structures the debug transcoder patches in place.
//
// It is deliberately narrow: sections are laid out in order after the file
// header, the section name table is rebuilt from scratch and the section
// header table goes last. Program headers are never produced.
package elfobj
