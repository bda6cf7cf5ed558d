package services

import (
	"context"
	"fmt"
	"os"
	"time"

	appContext "github.com/alphabatem/common/context"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	log "github.com/sirupsen/logrus"
)

// MediaService serves achievement badge and reward theme assets from object
// storage. Optional: without MINIO_ENDPOINT configured the rest of the system
// runs and responses simply omit asset URLs.
type MediaService struct {
	appContext.DefaultService

	client     *minio.Client
	bucketName string
	endpoint   string
	accessKey  string
	secretKey  string
	useSSL     bool
	enabled    bool
}

const MEDIA_SVC = "media_svc"

const presignExpiry = time.Hour

func (svc MediaService) Id() string {
	return MEDIA_SVC
}

func (svc *MediaService) Configure(ctx *appContext.Context) error {
	svc.endpoint = os.Getenv("MINIO_ENDPOINT")
	svc.accessKey = os.Getenv("MINIO_ACCESS_KEY")
	svc.secretKey = os.Getenv("MINIO_SECRET_KEY")
	svc.useSSL = os.Getenv("MINIO_USE_SSL") == "true"

	svc.bucketName = os.Getenv("MINIO_BUCKET_NAME")
	if svc.bucketName == "" {
		svc.bucketName = "focusgrove-assets"
	}

	svc.enabled = svc.endpoint != ""
	return svc.DefaultService.Configure(ctx)
}

func (svc *MediaService) Start() error {
	if !svc.enabled {
		log.Info("Media storage not configured, asset URLs disabled")
		return nil
	}

	client, err := minio.New(svc.endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(svc.accessKey, svc.secretKey, ""),
		Secure: svc.useSSL,
	})
	if err != nil {
		return fmt.Errorf("failed to create MinIO client: %v", err)
	}
	svc.client = client

	if err := svc.ensureBucket(); err != nil {
		return fmt.Errorf("failed to ensure bucket exists: %v", err)
	}

	log.WithField("endpoint", svc.endpoint).Info("Media storage connected")
	return nil
}

func (svc *MediaService) ensureBucket() error {
	ctx := context.Background()

	exists, err := svc.client.BucketExists(ctx, svc.bucketName)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %v", err)
	}
	if !exists {
		if err := svc.client.MakeBucket(ctx, svc.bucketName, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket: %v", err)
		}
		log.WithField("bucket", svc.bucketName).Info("Created media bucket")
	}
	return nil
}

// BadgeURL presigns a GET for an achievement badge. Empty when media storage
// is unconfigured or the presign fails; callers degrade to no artwork.
func (svc *MediaService) BadgeURL(badgeKey string) string {
	if !svc.enabled || badgeKey == "" {
		return ""
	}

	u, err := svc.client.PresignedGetObject(context.Background(), svc.bucketName,
		"badges/"+badgeKey, presignExpiry, nil)
	if err != nil {
		log.WithError(err).WithField("badge", badgeKey).Warn("Failed to presign badge URL")
		return ""
	}
	return u.String()
}

// ThemeURL presigns a GET for a reward theme asset bundle.
func (svc *MediaService) ThemeURL(theme string) string {
	if !svc.enabled || theme == "" {
		return ""
	}

	u, err := svc.client.PresignedGetObject(context.Background(), svc.bucketName,
		"themes/"+theme+".json", presignExpiry, nil)
	if err != nil {
		log.WithError(err).WithField("theme", theme).Warn("Failed to presign theme URL")
		return ""
	}
	return u.String()
}
