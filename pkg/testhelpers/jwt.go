package testhelpers

import (
	"encoding/base64"
	"fmt"
)

// GenerateTestJWT creates an unsigned (alg: none) token for servers running
// with AUTH_VERIFY=false. audience may be empty.
func GenerateTestJWT(sub, email, audience string) string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))

	payload := fmt.Sprintf(`{"sub":%q`, sub)
	if audience != "" {
		payload += fmt.Sprintf(`,"aud":%q`, audience)
	}
	if email != "" {
		payload += fmt.Sprintf(`,"email":%q`, email)
	}
	payload += "}"

	encodedPayload := base64.RawURLEncoding.EncodeToString([]byte(payload))
	return fmt.Sprintf("%s.%s.", header, encodedPayload)
}

// GenerateTestJWTWithBearer returns the token with a "Bearer " prefix for the
// Authorization header.
func GenerateTestJWTWithBearer(sub, email, audience string) string {
	return "Bearer " + GenerateTestJWT(sub, email, audience)
}
