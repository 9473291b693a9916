package maxutils

import (
	"crypto/x509"
	"fmt"
	"os"
	"strings"

	pkcs12 "software.sslmate.com/src/go-pkcs12"
)

// Identity is a Developer ID signing identity extracted from a PKCS#12
// file. Only the certificate metadata is needed here: the actual signing
// is performed by codesign against the keychain, this just saves typing
// the authority string by hand.
type Identity struct {
	Certificate *x509.Certificate
	TeamID      string
}

// LoadIdentity decodes a PKCS#12 archive and returns the signing
// identity it contains.
func LoadIdentity(p12Data []byte, password string) (*Identity, error) {
	_, cert, _, err := pkcs12.DecodeChain(p12Data, password)
	if err != nil {
		return nil, fmt.Errorf("failed to decode P12: %w", err)
	}
	return &Identity{
		Certificate: cert,
		TeamID:      extractTeamID(cert),
	}, nil
}

// LoadIdentityFile reads and decodes a PKCS#12 file.
func LoadIdentityFile(path, password string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read P12 file: %w", err)
	}
	return LoadIdentity(data, password)
}

// Authority is the string codesign expects after --sign. Developer ID
// certificates carry the full authority in their common name; anything
// else gets the Developer ID Application prefix added.
func (id *Identity) Authority() string {
	cn := id.Certificate.Subject.CommonName
	if strings.HasPrefix(cn, "Developer ID ") || strings.HasPrefix(cn, "Apple Development") {
		return cn
	}
	return fmt.Sprintf("Developer ID Application: %s", cn)
}

// extractTeamID finds the 10-character Apple team identifier, typically
// recorded in the certificate's Organizational Unit.
func extractTeamID(cert *x509.Certificate) string {
	for _, ou := range cert.Subject.OrganizationalUnit {
		if len(ou) == 10 {
			return ou
		}
	}
	return ""
}
