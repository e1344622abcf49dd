// Package diag prints the driver's one-line diagnostics in the
// "<tool>: <severity>: <message>" form the host compiler driver relays.
package diag
