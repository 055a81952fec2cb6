package transport

import (
	"testing"

	"github.com/kadnet/kadnet/crypto"
	"github.com/kadnet/kadnet/noise"
	"github.com/stretchr/testify/require"
)

func TestSecureConnXXHandshakeRoundTrip(t *testing.T) {
	initiatorKeys, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	responderKeys, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	initiatorHS, err := noise.NewXXHandshake(initiatorKeys.Private[:], noise.Initiator)
	require.NoError(t, err)
	responderHS, err := noise.NewXXHandshake(responderKeys.Private[:], noise.Responder)
	require.NoError(t, err)

	// Drive both state machines directly (without a real socket) to confirm
	// the cipher states they hand to SecureConn agree.
	msg1, complete, err := initiatorHS.WriteMessage(nil, nil)
	require.NoError(t, err)
	require.False(t, complete)

	_, complete, err = responderHS.ReadMessage(msg1)
	require.NoError(t, err)
	require.False(t, complete)

	msg2, complete, err := responderHS.WriteMessage(nil, nil)
	require.NoError(t, err)
	require.False(t, complete)

	_, complete, err = initiatorHS.ReadMessage(msg2)
	require.NoError(t, err)
	require.False(t, complete)

	msg3, complete, err := initiatorHS.WriteMessage(nil, nil)
	require.NoError(t, err)
	require.True(t, complete)

	_, complete, err = responderHS.ReadMessage(msg3)
	require.NoError(t, err)
	require.True(t, complete)

	initSend, initRecv, err := initiatorHS.GetCipherStates()
	require.NoError(t, err)
	respSend, respRecv, err := responderHS.GetCipherStates()
	require.NoError(t, err)

	plaintext := []byte("hello over a secure session")
	ciphertext, err := initSend.Encrypt(nil, nil, plaintext)
	require.NoError(t, err)

	decrypted, err := respRecv.Decrypt(nil, nil, ciphertext)
	require.NoError(t, err)
	require.Equal(t, plaintext, decrypted)

	reply := []byte("acknowledged")
	cipherReply, err := respSend.Encrypt(nil, nil, reply)
	require.NoError(t, err)
	decryptedReply, err := initRecv.Decrypt(nil, nil, cipherReply)
	require.NoError(t, err)
	require.Equal(t, reply, decryptedReply)
}
