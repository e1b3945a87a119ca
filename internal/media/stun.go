package media

import (
	"fmt"
	"log/slog"

	"github.com/pion/stun"
)

// PublicAddress asks a STUN server which address this host is seen as,
// so SDP can carry a routable IP when the gateway sits behind NAT and no
// explicit public address is configured.
func PublicAddress(server string, logger *slog.Logger) (string, error) {
	client, err := stun.Dial("udp4", server)
	if err != nil {
		return "", fmt.Errorf("dial stun server %s: %w", server, err)
	}
	defer client.Close()

	request := stun.MustBuild(stun.TransactionID, stun.BindingRequest)

	var (
		mapped stun.XORMappedAddress
		txnErr error
	)
	if err := client.Do(request, func(res stun.Event) {
		if res.Error != nil {
			txnErr = res.Error
			return
		}
		txnErr = mapped.GetFrom(res.Message)
	}); err != nil {
		return "", fmt.Errorf("stun binding request: %w", err)
	}
	if txnErr != nil {
		return "", fmt.Errorf("stun binding response: %w", txnErr)
	}

	logger.Info("resolved public address over stun",
		"server", server, "address", mapped.IP.String())
	return mapped.IP.String(), nil
}
