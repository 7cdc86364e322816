// Package script runs a computer's program in a sandboxed Starlark
// interpreter.
//
// A program only touches the outside world through the predeclared modules
// os, fs, peripheral and term (plus commands on command computers). Every
// one of them is backed by a Host, which the computer executor implements.
// Blocking host calls, such as os.pullEvent or a peripheral method that must
// run on the main loop, are yield points: the watchdog only measures the
// time a program spends between them.
//
// Starlark has no exceptions, so failures a program is expected to handle
// are returned as values: fs mutations return None on success and an error
// message otherwise, and peripheral.pcall returns (True, results...) or
// (False, message). Misuse, such as a wrong argument type, raises and ends
// the program.
//
// Values cross the boundary as cty values; see ToStarlark and FromStarlark.
package script
