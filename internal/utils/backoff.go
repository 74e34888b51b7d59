package utils

import "time"

const maxResendWait = 30 * time.Minute

// ResendWait returns the delay required after the given number of
// already-sent mails: one minute doubled per send, capped at 30 minutes.
func ResendWait(sendCount int) time.Duration {
	if sendCount >= 5 {
		return maxResendWait
	}
	wait := time.Minute << uint(sendCount)
	if wait > maxResendWait {
		return maxResendWait
	}
	return wait
}

// ResendRemaining reports how long until another mail may go out. Zero
// means sending is allowed now. A nil sentAt means nothing was sent yet.
func ResendRemaining(sentAt *time.Time, sendCount int, now time.Time) time.Duration {
	if sentAt == nil {
		return 0
	}
	remaining := ResendWait(sendCount) - now.Sub(*sentAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}
