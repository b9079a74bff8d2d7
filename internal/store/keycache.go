package store

import "time"

// KeyCache persists the fastd keys last read from a key repository.
type KeyCache struct {
	UpdatedAt time.Time `yaml:"updated_at"`
	Source    string    `yaml:"source"`
	Keys      []string  `yaml:"keys"`
}

// Fresh reports whether the cache holds keys of source that are younger than maxAge.
func (c *KeyCache) Fresh(source string, maxAge time.Duration, now time.Time) bool {
	if c == nil || c.UpdatedAt.IsZero() || c.Source != source {
		return false
	}
	return now.Sub(c.UpdatedAt) < maxAge
}

// LoadKeyCache loads the cache from disk. If the file is missing, returns an empty cache.
func LoadKeyCache(path string) (*KeyCache, error) {
	var c KeyCache
	if _, err := ReadYAML(path, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// SaveKeyCache writes the cache to disk, stamping it with the current time.
func SaveKeyCache(path string, c *KeyCache) error {
	if c == nil {
		return nil
	}
	c.UpdatedAt = time.Now().UTC()
	return WriteYAML(path, c, 0o644)
}
