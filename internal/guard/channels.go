package guard

import "slices"

// ChannelEligible applies the guild's channel lists: a blacklisted channel
// never earns XP, and a non-empty whitelist admits only its own channels.
func ChannelEligible(channelID string, blacklist, whitelist []string) bool {
	if slices.Contains(blacklist, channelID) {
		return false
	}
	return len(whitelist) == 0 || slices.Contains(whitelist, channelID)
}
