package service

import "github.com/mzrzvi/authcore/internal/repository"

// NewMemoryRepos returns the in-memory repositories used by this package's
// tests, for tests in service_test.
func NewMemoryRepos() (repository.PrincipalRepository, repository.LinkRepository) {
	p := newFakePrincipals()
	return p, p.links
}
