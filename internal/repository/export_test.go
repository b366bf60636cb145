package repository

// 外部テストパッケージ（repository_test）から使うヘルパー。
var (
	OpenTestDB  = openTestDB
	CreateUser  = createUser
	CreateEvent = createEvent
	FindEvent   = findEvent
)
