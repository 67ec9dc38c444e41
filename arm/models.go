package arm

import (
	"regexp"
	"strings"
	"time"
)

type SslState string

const (
	SslStateDisabled       SslState = "Disabled"
	SslStateSniEnabled     SslState = "SniEnabled"
	SslStateIPBasedEnabled SslState = "IpBasedEnabled"
)

// HostNameSslState is the SSL binding of one hostname of a site.
type HostNameSslState struct {
	Name       string   `json:"name"`
	SslState   SslState `json:"sslState"`
	Thumbprint string   `json:"thumbprint,omitempty"`
	ToUpdate   bool     `json:"toUpdate,omitempty"`
	VirtualIP  string   `json:"virtualIP,omitempty"`
	HostType   string   `json:"hostType,omitempty"`
}

type SiteProperties struct {
	ServerFarmID      string             `json:"serverFarmId"`
	HostNames         []string           `json:"hostNames,omitempty"`
	HostNameSslStates []HostNameSslState `json:"hostNameSslStates"`
}

// Site is the manifest of a web app or slot.
type Site struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Location   string         `json:"location"`
	Properties SiteProperties `json:"properties"`
}

// Binding returns the binding for hostname, or nil. Hostnames compare case
// insensitively.
func (s *Site) Binding(hostname string) *HostNameSslState {
	for i := range s.Properties.HostNameSslStates {
		if strings.EqualFold(s.Properties.HostNameSslStates[i].Name, hostname) {
			return &s.Properties.HostNameSslStates[i]
		}
	}
	return nil
}

// References reports whether any binding of the site uses thumbprint.
func (s *Site) References(thumbprint string) bool {
	for _, b := range s.Properties.HostNameSslStates {
		if b.Thumbprint != "" && strings.EqualFold(b.Thumbprint, thumbprint) {
			return true
		}
	}
	return false
}

type CertificateProperties struct {
	Thumbprint     string    `json:"thumbprint"`
	Issuer         string    `json:"issuer"`
	SubjectName    string    `json:"subjectName"`
	ExpirationDate time.Time `json:"expirationDate"`
	HostNames      []string  `json:"hostNames,omitempty"`
	ServerFarmID   string    `json:"serverFarmId,omitempty"`
}

// Certificate is a certificate resource as listed by the control plane.
type Certificate struct {
	ID         string                `json:"id"`
	Name       string                `json:"name"`
	Location   string                `json:"location"`
	Properties CertificateProperties `json:"properties"`
}

// CertificateUpload is the body of a certificate PUT. PfxBlob is sent base64
// encoded.
type CertificateUpload struct {
	Location   string                  `json:"location"`
	Properties CertificateUploadFields `json:"properties"`
}

type CertificateUploadFields struct {
	PfxBlob      []byte `json:"pfxBlob"`
	Password     string `json:"password"`
	ServerFarmID string `json:"serverFarmId"`
}

type certificateList struct {
	Value    []Certificate `json:"value"`
	NextLink string        `json:"nextLink"`
}

var serverFarmGroup = regexp.MustCompile(`(?i)/resourceGroups/([^/]+)/providers/Microsoft\.Web/`)

// ServerFarmResourceGroup extracts the resource group from a server farm id.
// It returns "" when the id does not have the expected shape.
func ServerFarmResourceGroup(serverFarmID string) string {
	m := serverFarmGroup.FindStringSubmatch(serverFarmID)
	if m == nil {
		return ""
	}
	return m[1]
}

// ServerFarmName is the last segment of a server farm id.
func ServerFarmName(serverFarmID string) string {
	parts := strings.Split(strings.TrimRight(serverFarmID, "/"), "/")
	return parts[len(parts)-1]
}
