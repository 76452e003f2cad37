package worker

import "mercuryhooks/internal"

// SubscriberConfig is the watermill section of the server config. Workers read
// the same section so both sides agree on drivers and topics.
type SubscriberConfig = internal.WatermillConfig
