package pathutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateRejectsTraversal(t *testing.T) {
	require.Error(t, Validate("../../etc/passwd", false))
	require.NoError(t, Validate("checkpoints/kernel-1.chk", false))
}

func TestValidateRejectsAbsoluteUnlessAllowed(t *testing.T) {
	require.Error(t, Validate("/var/fabric/checkpoints", false))
	require.NoError(t, Validate("/var/fabric/checkpoints", true))
}

func TestValidateWithinBase(t *testing.T) {
	require.NoError(t, ValidateWithinBase("/var/fabric", "checkpoints/k1.chk"))
	require.Error(t, ValidateWithinBase("/var/fabric", "../outside"))
}

func TestSecureJoinStaysRooted(t *testing.T) {
	joined, err := SecureJoin("/var/fabric", "checkpoints", "k1.chk")
	require.NoError(t, err)
	require.Equal(t, "/var/fabric/checkpoints/k1.chk", joined)

	_, err = SecureJoin("/var/fabric", "..", "etc", "passwd")
	require.Error(t, err)
}
