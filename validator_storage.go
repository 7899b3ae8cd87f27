package storage

import (
	"errors"
	"time"

	"github.com/sirupsen/logrus"
)

func (c *Config) validate() error {
	if c.Source == nil {
		return errors.New("storage: Source must be set")
	}
	if c.CacheTTL < 0 {
		return errors.New("storage: CacheTTL cannot be negative")
	}
	if c.PageSize < 0 {
		return errors.New("storage: PageSize cannot be negative")
	}

	c.parse()
	return nil
}

// parse fills in defaults
func (c *Config) parse() {
	if c.ServiceName == "" {
		c.ServiceName = defaultServiceName
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = defaultCacheTTL
	}
	if c.PageSize == 0 {
		c.PageSize = defaultPageSize
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}
