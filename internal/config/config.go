// Package config defines the necessary types to configure the portal.
// An example config file config.yaml is provided in the repository.
package config

import (
	"time"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
)

type Config struct {
	commoncfg.BaseConfig `mapstructure:",squash" yaml:",inline"`

	HTTP    HTTPServer `yaml:"http"`
	API     API        `yaml:"api"`
	Storage Storage    `yaml:"storage"`
	Session Session    `yaml:"session"`
}

type HTTPServer struct {
	Address         string        `yaml:"address" default:":8080"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" default:"5s"`
}

// API locates the Stockway backend.
type API struct {
	BaseURL string        `yaml:"baseURL" default:"http://localhost:8000"`
	Timeout time.Duration `yaml:"timeout" default:"30s"`
	Paths   APIPaths      `yaml:"paths"`
}

type APIPaths struct {
	SendOTP   string `yaml:"sendOTP" default:"/api/auth/send-otp/"`
	VerifyOTP string `yaml:"verifyOTP" default:"/api/auth/verify-otp/"`
	SignIn    string `yaml:"signIn" default:"/api/auth/signin/"`
	SignUp    string `yaml:"signUp" default:"/api/auth/signup/"`
	Me        string `yaml:"me" default:"/api/auth/me/"`
	Logout    string `yaml:"logout" default:"/api/auth/logout/"`
}

type StorageBackend string

const (
	StorageBackendFile   StorageBackend = "file"
	StorageBackendValKey StorageBackend = "valkey"
)

// Storage selects where the session survives restarts.
type Storage struct {
	Backend StorageBackend `yaml:"backend" default:"file"`
	File    FileStorage    `yaml:"file"`
	ValKey  ValKey         `yaml:"valkey"`
	Keys    StorageKeys    `yaml:"keys"`
}

type FileStorage struct {
	// Path is expanded with os.ExpandEnv.
	Path string `yaml:"path" default:"$HOME/.portal/credentials.yaml"`
}

type ValKey struct {
	Host      commoncfg.SourceRef `yaml:"host"`
	User      commoncfg.SourceRef `yaml:"user"`
	Password  commoncfg.SourceRef `yaml:"password"`
	SecretRef commoncfg.SecretRef `yaml:"secretRef"`
	Prefix    string              `yaml:"prefix" default:"portal"`
	Profile   string              `yaml:"profile" default:"default"`
}

// StorageKeys names the three persisted entries.
type StorageKeys struct {
	AccessToken  string `yaml:"accessToken" default:"stockway_access_token"`
	RefreshToken string `yaml:"refreshToken" default:"stockway_refresh_token"`
	Identity     string `yaml:"identity" default:"stockway_user"`
}

type Session struct {
	// RevalidateInterval re-checks the held token against the backend. Zero disables it.
	RevalidateInterval time.Duration       `yaml:"revalidateInterval" default:"0s"`
	OTPTTL             time.Duration       `yaml:"otpTTL" default:"10m"`
	MinPasswordLength  int                 `yaml:"minPasswordLength" default:"6"`
	CSRFSecret         commoncfg.SourceRef `yaml:"csrfSecret"`
	CSRFTokenMaxAge    time.Duration       `yaml:"csrfTokenMaxAge" default:"1h"`
	CSRFCookieTemplate CookieTemplate      `yaml:"csrfCookie"`
}

type CookieSameSite string

const (
	CookieSameSiteNone   CookieSameSite = "None"
	CookieSameSiteLax    CookieSameSite = "Lax"
	CookieSameSiteStrict CookieSameSite = "Strict"
)

type CookieTemplate struct {
	Name     string         `yaml:"name" default:"portal_csrf"`
	MaxAge   int            `yaml:"maxAge" default:"3600"`
	Path     string         `yaml:"path" default:"/"`
	Domain   string         `yaml:"domain"`
	Secure   bool           `yaml:"secure"`
	SameSite CookieSameSite `yaml:"sameSite" default:"Strict"`
	HTTPOnly bool           `yaml:"httpOnly"`
}
