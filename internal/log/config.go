package log

type Config struct {
	Level     string          `mapstructure:"level" yaml:"level"`
	Formatter string          `mapstructure:"formatter" yaml:"formatter"` // pattern | prefixed | json
	Pattern   string          `mapstructure:"pattern" yaml:"pattern"`
	Time      string          `mapstructure:"time" yaml:"time"`
	Console   bool            `mapstructure:"console" yaml:"console"`
	File      FileAppenderOpt `mapstructure:"file" yaml:"file"`
}

const (
	FormatterPattern  = "pattern"
	FormatterPrefixed = "prefixed"
	FormatterJSON     = "json"

	DefaultPattern = "%time [%level] %field %msg%n"
	DefaultTime    = "2006-01-02 15:04:05.000"
)

// DefaultConfig logs info and above to the console with the pattern formatter.
func DefaultConfig() *Config {
	return &Config{
		Level:     "info",
		Formatter: FormatterPattern,
		Pattern:   DefaultPattern,
		Time:      DefaultTime,
		Console:   true,
	}
}
