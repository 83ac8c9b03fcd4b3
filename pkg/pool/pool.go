// Package pool содержит пулы переиспользуемых объектов для горячих путей
// конвейера: буферы записей батчера и байтовые буферы сериализации.
package pool

import (
	"bytes"
	"sync"

	"github.com/flybeeper/trajectory-backend/internal/models"
)

const defaultRecordBufferCap = 1024

var recordBufferPool = sync.Pool{
	New: func() interface{} {
		buf := make([]models.PointRecord, 0, defaultRecordBufferCap)
		return &buf
	},
}

var byteBufferPool = sync.Pool{
	New: func() interface{} {
		return &bytes.Buffer{}
	},
}

// GetRecordBuffer получает пустой буфер записей из пула
func GetRecordBuffer() *[]models.PointRecord {
	return recordBufferPool.Get().(*[]models.PointRecord)
}

// PutRecordBuffer возвращает буфер записей в пул. Записи, уже переданные
// дальше по конвейеру, буферу не принадлежат.
func PutRecordBuffer(buf *[]models.PointRecord) {
	*buf = (*buf)[:0]
	recordBufferPool.Put(buf)
}

// GetByteBuffer получает пустой байтовый буфер из пула
func GetByteBuffer() *bytes.Buffer {
	return byteBufferPool.Get().(*bytes.Buffer)
}

// PutByteBuffer возвращает байтовый буфер в пул
func PutByteBuffer(buf *bytes.Buffer) {
	buf.Reset()
	byteBufferPool.Put(buf)
}
