package worker

import (
	"lssvm.dev/trainer/s3client"
)

type s3Transactions interface {
	getDataset(task *Task) ([]byte, error)
	saveModel(task *Task, model []byte) error
	close()
}

type s3ClientWrapper struct {
	s3Client *s3client.Client
}

func (wrapper *s3ClientWrapper) close() {
	wrapper.s3Client.Close()
}

func (wrapper *s3ClientWrapper) getDataset(task *Task) ([]byte, error) {
	return wrapper.s3Client.Download(task.ctx, task.message.DatasetKey)
}

func (wrapper *s3ClientWrapper) saveModel(task *Task, model []byte) error {
	_, err := wrapper.s3Client.Upload(task.ctx, model, getModelFileKey(task))
	return err
}
