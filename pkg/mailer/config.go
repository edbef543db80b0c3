package mailer

// Transport names accepted by Config.Transport.
const (
	TransportLog      = "log"
	TransportResend   = "resend"
	TransportPostmark = "postmark"
	TransportSMTP     = "smtp"
)

// Config holds mailer configuration.
// Embed this in your app config for env parsing with caarlos0/env.
type Config struct {
	Transport   string `env:"MAILER_TRANSPORT" envDefault:"log"`
	DefaultFrom string `env:"MAILER_DEFAULT_FROM"`
}
