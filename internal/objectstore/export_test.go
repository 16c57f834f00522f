package objectstore

var (
	MapS3Error  = mapS3Error
	MapGCSError = mapGCSError
)
