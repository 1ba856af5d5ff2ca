package catalog

import "strings"

// channelSeparator joins a Pricing.SubscriptionKeys slice into the single
// TEXT column modpacks.pricing_channels. Channel names are not checked
// for commas, so a name containing one is read back as two channels.
const channelSeparator = ","

func joinChannels(keys []string) string {
	return strings.Join(keys, channelSeparator)
}

func splitChannels(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, channelSeparator)
}

func stringsContains(s, substr string) bool {
	return strings.Contains(s, substr)
}
