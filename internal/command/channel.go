package command

//go:generate mockgen -destination=mocks/mock_channel.go -package=mocks github.com/mattjoyce/tasklog/internal/command Channel

// Channel is the connection a response Command is written back to.
// Implementations must be safe for concurrent Write calls.
type Channel interface {
	Write(cmd *Command) error
	RemoteAddr() string
}
