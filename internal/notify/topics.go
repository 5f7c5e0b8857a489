package notify

import "fmt"

const (
	TopicPrintTasks          = "print-tasks"
	TopicPrintStatus         = "print-status"
	TopicPrintErrors         = "print-errors"
	TopicSystemNotifications = "system-notifications"
	TopicHeartbeat           = "heartbeat"
)

func StoreTasksTopic(storeID int64) string {
	return fmt.Sprintf("store/%d/print-tasks", storeID)
}

func StoreStatusTopic(storeID int64) string {
	return fmt.Sprintf("store/%d/print-status", storeID)
}

// MerchantTasksTopic is the legacy routing for tasks without a store.
func MerchantTasksTopic(merchantID int64) string {
	return fmt.Sprintf("merchant/%d/print-tasks", merchantID)
}

func ClientTopic(clientID string) string {
	return "client/" + clientID
}
