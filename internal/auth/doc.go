// Package auth holds operator accounts and the rules for what each
// account may do through the REST API.
//
// Accounts carry one of three roles. A user reads registers, writes
// values and starts or stops monitoring. An admin also edits the
// controller catalogue and manages user and admin accounts. An owner may
// additionally manage other owners.
//
// Passwords are stored as Argon2id PHC strings. Logins return a
// short-lived HS256 token whose claims (subject, role) are trusted until
// expiry; permission checks are a static role table. On first boot
// SeedOwner creates an owner with a random password.
package auth
