package auth

// publicPaths bypass authentication.
var publicPaths = map[string]bool{
	"/api/health": true,
	"/health":     true,
	"/health/db":  true,
	"/metrics":    true,
}

// IsPublicPath reports whether path skips authentication.
func IsPublicPath(path string) bool {
	return publicPaths[path]
}
