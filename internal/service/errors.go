package service

import "errors"

// Ошибки валидации загрузки.
var (
	// ErrNoFileProvided — в запросе нет файла или у него пустое имя
	ErrNoFileProvided = errors.New("файл не передан")
	// ErrFileTooLarge — файл больше допустимого размера
	ErrFileTooLarge = errors.New("файл превышает максимальный размер")
	// ErrQuotaExceeded — загрузка превысила бы квоту хранилища
	ErrQuotaExceeded = errors.New("превышена квота хранилища")
)

// Ошибки выполнения операций.
var (
	ErrFileNotFound   = errors.New("файл не найден")
	ErrStorageWrite   = errors.New("ошибка записи содержимого файла")
	ErrStorageRead    = errors.New("ошибка чтения содержимого файла")
	ErrMetadataRead   = errors.New("ошибка чтения метаданных")
	ErrMetadataWrite  = errors.New("ошибка записи метаданных")
	ErrMetadataDelete = errors.New("ошибка удаления метаданных")
)
