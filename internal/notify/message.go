package notify

import (
	"fmt"
	"strings"
)

// ClaimMessage composes the redemption SMS: amount, PIN, and the claim link.
// The PIN appears only in the outbound message, never in logs or storage.
func ClaimMessage(amount, assetCode, pin, claimURL, senderName string) string {
	display := amount
	if strings.EqualFold(assetCode, "NATIVE") || strings.EqualFold(assetCode, "USD") {
		display = "$" + amount
	} else {
		display = amount + " " + assetCode
	}

	if senderName != "" {
		return fmt.Sprintf("%s sent you %s! Use PIN %s to claim your funds at %s", senderName, display, pin, claimURL)
	}
	return fmt.Sprintf("You received %s! Use PIN %s to claim your funds at %s", display, pin, claimURL)
}

// ClaimURL builds the link embedded in the message.
func ClaimURL(baseURL, claimID string) string {
	return strings.TrimRight(baseURL, "/") + "/claim/" + claimID
}
