package http

type Config struct {
	Port uint `mapstructure:"port"`
	// AllowOrigins lists the dashboard origins allowed by CORS.
	AllowOrigins []string `mapstructure:"allow_origins"`
}
