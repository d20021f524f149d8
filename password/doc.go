// Package password hashes and verifies account passwords.
//
// New hashes use argon2id in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Hashes imported from older systems in bcrypt format ($2a$, $2b$, $2y$)
// still verify, and [Hasher.NeedsUpgrade] flags them for rehashing on the
// next successful login.
//
// The package never stores or logs passwords.
package password
