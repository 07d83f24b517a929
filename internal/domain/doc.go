// Package domain defines the core domain types and contracts.
//
// Files are concept-oriented (match.go, event.go, message.go, role.go):
// value types, the closed rule tables of the sport, and the repository and
// broker interfaces their consumers depend on. Keeping the interfaces here,
// next to the types they carry, prevents circular imports.
package domain
