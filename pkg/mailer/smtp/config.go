package smtp

// TLS modes accepted by Config.TLSMode.
const (
	TLSModeSTARTTLS = "starttls"
	TLSModeTLS      = "tls"
	TLSModePlain    = "plain"
)

// Config holds SMTP server configuration.
type Config struct {
	Host     string `env:"SMTP_HOST"`
	Port     int    `env:"SMTP_PORT" envDefault:"587"`
	Username string `env:"SMTP_USERNAME"`
	Password string `env:"SMTP_PASSWORD"`
	TLSMode  string `env:"SMTP_TLS_MODE" envDefault:"starttls"` // starttls, tls, or plain
}
