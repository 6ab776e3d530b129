package domain

import "time"

// ConnParams are already-decrypted connection parameters for the target
// database, supplied by the surrounding application.
type ConnParams struct {
	Host           string
	Port           int
	Database       string
	User           string
	Password       string
	SSLMode        string
	ConnectTimeout time.Duration
}
