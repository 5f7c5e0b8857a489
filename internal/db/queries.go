package db

const taskColumns = `task_id, order_id, order_no, merchant_id, store_id, kind, content, status, priority,
		printer_name, retry_count, assigned_client_id, error_message, create_time, last_update_time, print_time`

const (
	UpsertTask = `
		INSERT INTO print_tasks (` + taskColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			order_id = excluded.order_id,
			order_no = excluded.order_no,
			merchant_id = excluded.merchant_id,
			store_id = excluded.store_id,
			kind = excluded.kind,
			content = excluded.content,
			status = excluded.status,
			priority = excluded.priority,
			printer_name = excluded.printer_name,
			retry_count = excluded.retry_count,
			assigned_client_id = excluded.assigned_client_id,
			error_message = excluded.error_message,
			last_update_time = excluded.last_update_time,
			print_time = excluded.print_time
	`

	InsertTask = `INSERT INTO print_tasks (` + taskColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	GetTaskByID = `SELECT ` + taskColumns + ` FROM print_tasks WHERE task_id = ?`

	CountTasksByOrder = `SELECT COUNT(*) FROM print_tasks WHERE order_id = ? AND kind = ?`

	ListTasksByStatus = `SELECT ` + taskColumns + ` FROM print_tasks WHERE status = ? ORDER BY create_time ASC`

	ListTasksByStatusAndStore = `SELECT ` + taskColumns + ` FROM print_tasks WHERE status = ? AND store_id = ? ORDER BY create_time ASC`

	ListTasksByStatusAndMerchant = `SELECT ` + taskColumns + ` FROM print_tasks WHERE status = ? AND merchant_id = ? ORDER BY create_time ASC`

	ListCompletedTasksBefore = `
		SELECT ` + taskColumns + ` FROM print_tasks
		WHERE status = 'COMPLETED' AND COALESCE(print_time, last_update_time) < ?
		ORDER BY create_time ASC
	`

	CountTasksByMerchant = `SELECT COUNT(*) FROM print_tasks WHERE merchant_id = ?`

	ListTasksByMerchant = `
		SELECT ` + taskColumns + ` FROM print_tasks
		WHERE merchant_id = ?
		ORDER BY create_time DESC
		LIMIT ? OFFSET ?
	`

	DeleteTask = `DELETE FROM print_tasks WHERE task_id = ?`
)

const clientColumns = `client_id, client_name, merchant_id, store_id, printer_name, ip_address, version, os_info,
		online, last_active_time, create_time, update_time`

const (
	UpsertClient = `
		INSERT INTO print_clients (` + clientColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(client_id) DO UPDATE SET
			client_name = excluded.client_name,
			merchant_id = excluded.merchant_id,
			store_id = excluded.store_id,
			printer_name = excluded.printer_name,
			ip_address = excluded.ip_address,
			version = excluded.version,
			os_info = excluded.os_info,
			online = excluded.online,
			last_active_time = excluded.last_active_time,
			update_time = excluded.update_time
	`

	GetClientByID = `SELECT ` + clientColumns + ` FROM print_clients WHERE client_id = ?`

	ListOnlineClients = `SELECT ` + clientColumns + ` FROM print_clients WHERE online = 1 ORDER BY client_id`

	ListOnlineClientsByStore = `SELECT ` + clientColumns + ` FROM print_clients WHERE online = 1 AND store_id = ? ORDER BY client_id`

	ListOnlineClientsByMerchant = `SELECT ` + clientColumns + ` FROM print_clients WHERE online = 1 AND merchant_id = ? ORDER BY client_id`

	ListStaleOnlineClients = `SELECT ` + clientColumns + ` FROM print_clients WHERE online = 1 AND last_active_time < ?`
)

const (
	InsertHistory = `
		INSERT INTO print_history (task_id, order_id, order_no, merchant_id, store_id, client_id,
			printer_name, ip_address, status, error_message, print_time, create_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	ListHistoryByTask = `
		SELECT id, task_id, order_id, order_no, merchant_id, store_id, client_id,
			printer_name, ip_address, status, error_message, print_time, create_time
		FROM print_history WHERE task_id = ? ORDER BY id ASC
	`
)

const (
	GetSetting = `SELECT value FROM settings WHERE key = ?`

	SetSetting = `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`
)
