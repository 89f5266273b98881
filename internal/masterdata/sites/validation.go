package sites

import (
	"errors"
	"strings"
)

func (s *Service) validate(site Site) error {
	if strings.TrimSpace(site.Code) == "" {
		return errors.New("site code is required")
	}
	if strings.TrimSpace(site.Name) == "" {
		return errors.New("site name is required")
	}
	return nil
}
