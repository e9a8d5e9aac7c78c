package identity

import (
	"errors"
	"fmt"

	"streamcast/internal/core/domain"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid identity token")

// Claims carry the display identity a portal hands the client alongside
// the relay URL. The relay trusts names and roles as given, so the client
// only decodes the token; verification stays with the portal that minted
// it.
type Claims struct {
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	jwt.RegisteredClaims
}

// Identity is the decoded session identity.
type Identity struct {
	DisplayName string
	Role        domain.Role
}

// FromToken decodes an identity token without verifying its signature.
func FromToken(tokenString string) (Identity, error) {
	parser := jwt.NewParser()
	var claims Claims
	if _, _, err := parser.ParseUnverified(tokenString, &claims); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.DisplayName == "" {
		return Identity{}, fmt.Errorf("%w: missing display_name", ErrInvalidToken)
	}

	role, err := parseRole(claims.Role)
	if err != nil {
		return Identity{}, err
	}

	return Identity{DisplayName: claims.DisplayName, Role: role}, nil
}

func parseRole(raw string) (domain.Role, error) {
	switch raw {
	case "streamer":
		return domain.RoleStreamer, nil
	case "viewer", "":
		return domain.RoleViewer, nil
	default:
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidToken, raw)
	}
}
