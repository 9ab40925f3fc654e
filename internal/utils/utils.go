package utils

import (
	"strings"
	"time"

	"github.com/goombaio/namegenerator"
)

// GenerateName creates a random, memorable name such as "wispy-dust"
func GenerateName() string {
	name := namegenerator.NewNameGenerator(time.Now().UTC().UnixNano()).Generate()
	return strings.ReplaceAll(name, "_", "-")
}
