package repository

// Store agrupa los repositorios que necesita el core de autenticación.
// Una implementación puede compartir la misma conexión/transacción entre todos.
type Store interface {
	Users() UserRepository
	MFA() MFARepository
	LDAPConfigs() LDAPConfigRepository
	SSOConfigs() SSOConfigRepository
}
