package util

const (
	StorageLocal = "local"
	StorageMinio = "minio"
	StorageOSS   = "oss"
)

const (
	MimeImage       = "image/"
	MimeJPEG        = "image/jpeg"
	MimeOctetStream = "application/octet-stream"
)

const (
	OCRPolicyStrict     = "strict"
	OCRPolicyBestEffort = "best_effort"
)

const (
	RoleStudent = "student"
	RoleTeacher = "teacher"
	RoleAdmin   = "admin"
)

// ContextUserKey gin.Context 中存放 *Claims 的键
const ContextUserKey = "user"
