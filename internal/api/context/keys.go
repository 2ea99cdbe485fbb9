package context

type Key string

const (
	Session  Key = "session"
	ClientIP Key = "client_ip"
)
