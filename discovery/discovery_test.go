package discovery

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTXT(t *testing.T) {
	assert.Equal(t, []string{
		"txtvers=1",
		"prefix=/sw/state-manager",
		"replyport=57122",
	}, TXT("/sw/state-manager", 57122))
}

func TestInstanceName(t *testing.T) {
	assert.True(t, strings.HasPrefix(InstanceName("soundworks-max"), "soundworks-max"))
}
