package pool

import (
	"os"

	"github.com/nijaru/yt-script/errors"
	"gopkg.in/yaml.v3"
)

// SeedFile lists the keys and proxies a process starts with.
//
//	keys:
//	  - AIza...
//	proxies:
//	  - url: socks5://10.0.0.2:1080
//	    country: DE
type SeedFile struct {
	Keys    []string `yaml:"keys"`
	Proxies []Proxy  `yaml:"proxies"`
}

func LoadSeedFile(path string) (*SeedFile, error) {
	const op = "pool.LoadSeedFile"

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Internal(op, err, "failed to read pool seed file")
	}

	var seed SeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, errors.InvalidInput(op, err, "invalid pool seed file")
	}
	return &seed, nil
}

// Apply adds the seeded entries to the pools. Invalid proxies are skipped.
func (s *SeedFile) Apply(creds *CredentialPool, egress *EgressPool) (keys int, proxies int) {
	if creds != nil {
		keys = creds.LoadKeys(s.Keys)
	}
	if egress != nil {
		for _, px := range s.Proxies {
			if _, err := egress.AddProxy(px); err != nil {
				egress.logger.WithError(err).WithField("proxy", px.URL).Warn("Skipping invalid proxy")
				continue
			}
			proxies++
		}
	}
	return keys, proxies
}
