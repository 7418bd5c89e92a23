package auth

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"
)

const (
	SecretEnvVar = "CMSAUTH_SESSION_SECRET"
)

// SecretFromEnv reads the signing secret from the environment variable
// varname and clears it afterwards, so child processes and crash dumps do
// not carry it around.
//
// Values prefixed with "base64:" are decoded, anything else is used as is.
func SecretFromEnv(varname string, getfn func(string) string, setfn func(string, string) error) ([]byte, error) {
	if getfn == nil {
		getfn = os.Getenv
	}
	if setfn == nil {
		setfn = os.Setenv
	}
	val := getfn(varname)
	setfn(varname, "")
	if val == "" {
		return nil, fmt.Errorf("auth: environment variable %v is empty", varname)
	}
	secret := []byte(val)
	if strings.HasPrefix(val, "base64:") {
		var err error
		secret, err = base64.StdEncoding.DecodeString(strings.TrimPrefix(val, "base64:"))
		if err != nil {
			return nil, fmt.Errorf("auth: cannot decode secret from %v, cause %v", varname, err)
		}
	}
	if len(secret) < MinSecretLength {
		return nil, errShortSecret
	}
	return secret, nil
}
