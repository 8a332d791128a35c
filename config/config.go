package config

import (
	"encoding/json"
	"fmt"
	"runtime"
	"time"

	"github.com/IMQS/log"
	serviceconfig "github.com/IMQS/serviceconfigsgo"
)

/*
Sample config

All services (search, history, dockyardlife, gateway) read the same file. If you don't specify
logfiles, then stderr is used for the Error log, and stdout is used for the Access log.

{
	"VerboseLogging": false,
	"HTTP": {
		"Bind": "",
		"Port": ""
	},
	"Log": {
		"ErrorFile": "/var/log/dockyard/error.log",
		"AccessFile": "/var/log/dockyard/access.log"
	},
	"Database": {
		"Driver": "postgres",
		"Host": "127.0.0.1",
		"Database": "dockyard",
		"User": "dockyard",
		"Password": "password",
		"ConnectTimeoutSeconds": 10,
		"LoadTimeoutSeconds": 30
	},
	"Mail": {
		"Host": "smtp.example.org",
		"Port": 587,
		"User": "archive",
		"Password": "password",
		"From": "\"Dockyard Archive\" <noreply@dockyard.local>"
	},
	"Reload": {
		"DailyAt": "02:00"
	},
	"Services": {
		"History": "http://localhost:5001",
		"Search": "http://localhost:5002",
		"DockyardLife": "http://localhost:5003",
		"TimeoutSeconds": 10
	},
	"CORS": {
		"AllowedOrigins": ["*"]
	}
}
*/

const (
	serviceConfigFileName = "dockyard.json"
	serviceConfigVersion  = 1
	serviceName           = "DockyardArchive"

	defaultConnectTimeout  = 10 * time.Second
	defaultLoadTimeout     = 30 * time.Second
	defaultMailTimeout     = 15 * time.Second
	defaultUpstreamTimeout = 10 * time.Second
)

type ConfigHttp struct {
	Bind string
	Port string
}

type ConfigLog struct {
	ErrorFile  string
	AccessFile string
}

type ConfigDatabase struct {
	Driver                string `json:",omitempty"`
	Host                  string `json:",omitempty"`
	Database              string `json:",omitempty"`
	User                  string `json:",omitempty"`
	Password              string `json:",omitempty"`
	Port                  uint16 `json:",omitempty"`
	SSLMode               string `json:",omitempty"`
	ConnectTimeoutSeconds int    `json:",omitempty"`
	LoadTimeoutSeconds    int    `json:",omitempty"`
	MaxIdleConns          int    `json:",omitempty"`
	MaxOpenConns          int    `json:",omitempty"`
}

func (c *ConfigDatabase) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	conStr := fmt.Sprintf("host=%v user=%v password=%v dbname=%v sslmode=%v connect_timeout=%v",
		c.Host, c.User, c.Password, c.Database, sslMode, int(c.ConnectTimeout().Seconds()))
	if c.Port != 0 {
		conStr += fmt.Sprintf(" port=%v", c.Port)
	}
	return conStr
}

// ConnectTimeout bounds connection establishment, including server selection.
func (c *ConfigDatabase) ConnectTimeout() time.Duration {
	return secondsOr(c.ConnectTimeoutSeconds, defaultConnectTimeout)
}

// LoadTimeout bounds an entire snapshot load.
func (c *ConfigDatabase) LoadTimeout() time.Duration {
	return secondsOr(c.LoadTimeoutSeconds, defaultLoadTimeout)
}

type ConfigMail struct {
	Host           string
	Port           int
	User           string
	Password       string
	From           string
	TimeoutSeconds int
}

func (c *ConfigMail) IsConfigured() bool {
	return c.Host != ""
}

func (c *ConfigMail) Timeout() time.Duration {
	return secondsOr(c.TimeoutSeconds, defaultMailTimeout)
}

type ConfigReload struct {
	DailyAt string // "HH:MM". Empty disables the scheduled reload.
}

type ConfigServices struct {
	History        string
	Search         string
	DockyardLife   string
	TimeoutSeconds int
}

func (c *ConfigServices) Timeout() time.Duration {
	return secondsOr(c.TimeoutSeconds, defaultUpstreamTimeout)
}

type ConfigCORS struct {
	AllowedOrigins []string
}

type Config struct {
	VerboseLogging bool
	HTTP           ConfigHttp
	Log            ConfigLog
	Database       ConfigDatabase
	Mail           ConfigMail
	Reload         ConfigReload
	Services       ConfigServices
	CORS           ConfigCORS
}

func (c *Config) LoadFile(filename string) error {
	if err := serviceconfig.GetConfig(filename, serviceName, serviceConfigVersion, serviceConfigFileName, c); err != nil {
		return err
	}
	c.applyDefaults()
	return nil
}

// LoadString was created for unit tests, so that we can synthesize the config in code.
func (c *Config) LoadString(s string) error {
	if err := json.Unmarshal([]byte(s), c); err != nil {
		return err
	}
	c.applyDefaults()
	return nil
}

func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	if c.Services.History == "" {
		c.Services.History = "http://localhost:5001"
	}
	if c.Services.Search == "" {
		c.Services.Search = "http://localhost:5002"
	}
	if c.Services.DockyardLife == "" {
		c.Services.DockyardLife = "http://localhost:5003"
	}
	if len(c.CORS.AllowedOrigins) == 0 {
		c.CORS.AllowedOrigins = []string{"*"}
	}
}

// ListenAddr returns the bind address, using defaultPort when neither the config nor the command
// line chose one.
func (c *Config) ListenAddr(defaultPort string) string {
	port := defaultPort
	if c.HTTP.Port != "" {
		port = c.HTTP.Port
	}
	return fmt.Sprintf("%v:%v", c.HTTP.Bind, port)
}

func pickLogFile(filename, defaultFilename string) string {
	if filename != "" {
		return filename
	}
	return defaultFilename
}

// NewLoggers creates the error and access logs described by the config.
func (c *Config) NewLoggers() (errorLog, accessLog *log.Logger) {
	isWindows := runtime.GOOS == "windows"
	errorLog = log.New(pickLogFile(c.Log.ErrorFile, log.Stderr), !isWindows)
	accessLog = log.New(pickLogFile(c.Log.AccessFile, log.Stdout), !isWindows)
	if c.VerboseLogging {
		errorLog.Level = log.Trace
		accessLog.Level = log.Trace
	}
	return
}

func secondsOr(seconds int, fallback time.Duration) time.Duration {
	if seconds <= 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}
