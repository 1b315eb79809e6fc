package middleware

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORSConfig controls cross-origin access for browser clients.
type CORSConfig struct {
	AllowOrigins []string      `yaml:"allowOrigins"`
	MaxAge       time.Duration `yaml:"maxAge"`
}

// CORS builds a CORS middleware. Listed origins may send credentials, so the
// visitor cookie survives cross-origin calls from them. An empty list or "*"
// opens the API to any origin without credentials; such callers share no
// cookie and get a fresh guest identity on every request.
func CORS(cfg CORSConfig) gin.HandlerFunc {
	maxAge := cfg.MaxAge
	if maxAge == 0 {
		maxAge = 12 * time.Hour
	}
	corsCfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", traceIDHeader, requestIDHeader},
		ExposeHeaders: []string{traceIDHeader, requestIDHeader},
		MaxAge:        maxAge,
	}
	if allowAny(cfg.AllowOrigins) {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.AllowOrigins
		corsCfg.AllowCredentials = true
	}
	return cors.New(corsCfg)
}

func allowAny(origins []string) bool {
	if len(origins) == 0 {
		return true
	}
	for _, origin := range origins {
		if origin == "*" {
			return true
		}
	}
	return false
}
