package resend

// Config holds Resend API credentials.
type Config struct {
	APIKey   string `envconfig:"RESEND_API_KEY"`
	From     string `envconfig:"RESEND_FROM_EMAIL"`
	FromName string `envconfig:"RESEND_FROM_NAME"`
	BaseURL  string `envconfig:"RESEND_BASE_URL"` // overrides the API endpoint
}
