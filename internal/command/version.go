package command

import (
	goversion "github.com/hashicorp/go-version"
)

// IsClientVersionCompatible reports whether a client speaking clientVersion
// can talk to a service at serviceVersion. They are compatible when their
// major versions match.
func IsClientVersionCompatible(clientVersion, serviceVersion string) bool {
	client, err := goversion.NewVersion(clientVersion)
	if err != nil {
		return false
	}
	service, err := goversion.NewVersion(serviceVersion)
	if err != nil {
		return false
	}
	return client.Segments()[0] == service.Segments()[0]
}
