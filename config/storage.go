package config

import "fmt"

const (
	StorageNone  = ""
	StorageS3    = "s3"
	StorageMinio = "minio"
)

// StorageConfig selects where finished artifacts are mirrored. Empty type disables mirroring.
type StorageConfig struct {
	Type  string      `yaml:"type"`
	S3    S3Config    `yaml:"s3"`
	Minio MinioConfig `yaml:"minio"`
}

type S3Config struct {
	BucketName string `yaml:"bucketName"`
	Region     string `yaml:"region"`
	Endpoint   string `yaml:"endpoint"`
	AccessKey  string `yaml:"accessKey"`
	SecretKey  string `yaml:"secretKey"`
}

type MinioConfig struct {
	AccessKey  string `yaml:"accessKey"`
	SecretKey  string `yaml:"secretKey"`
	Endpoint   string `yaml:"endpoint"`
	UseSSL     bool   `yaml:"useSSL"`
	Region     string `yaml:"region"`
	BucketName string `yaml:"bucketName"`
}

func (c *StorageConfig) applyEnv() {
	c.Type = getEnv("STORAGE_TYPE", c.Type)

	c.S3.BucketName = getEnv("AWS_S3_BUCKET_NAME", c.S3.BucketName)
	c.S3.Region = getEnv("AWS_REGION", c.S3.Region)
	c.S3.Endpoint = getEnv("AWS_ENDPOINT", c.S3.Endpoint)
	c.S3.AccessKey = getEnv("AWS_ACCESS_KEY", c.S3.AccessKey)
	c.S3.SecretKey = getEnv("AWS_SECRET_KEY", c.S3.SecretKey)

	c.Minio.AccessKey = getEnv("MINIO_ACCESS_KEY", c.Minio.AccessKey)
	c.Minio.SecretKey = getEnv("MINIO_SECRET_KEY", c.Minio.SecretKey)
	c.Minio.Endpoint = getEnv("MINIO_ENDPOINT", c.Minio.Endpoint)
	c.Minio.UseSSL = getEnvBool("MINIO_USE_SSL", c.Minio.UseSSL)
	c.Minio.Region = getEnv("MINIO_REGION", c.Minio.Region)
	c.Minio.BucketName = getEnv("MINIO_BUCKET_NAME", c.Minio.BucketName)
}

func (c *StorageConfig) validate() error {
	switch c.Type {
	case StorageNone:
		return nil
	case StorageS3:
		if c.S3.BucketName == "" {
			return fmt.Errorf("AWS_S3_BUCKET_NAME is required for s3 storage")
		}
	case StorageMinio:
		if c.Minio.Endpoint == "" || c.Minio.BucketName == "" {
			return fmt.Errorf("MINIO_ENDPOINT and MINIO_BUCKET_NAME are required for minio storage")
		}
	default:
		return fmt.Errorf("unsupported storage type: %s", c.Type)
	}
	return nil
}
