package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9\-_.]`)

// FolderManager lays out one folder per invoice: <base>/<issuer CNPJ>/<access key>/
type FolderManager struct {
	baseDir string
	logger  *zap.Logger
}

// NewFolderManager creates a new FolderManager
func NewFolderManager(baseDir string, logger *zap.Logger) *FolderManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FolderManager{
		baseDir: baseDir,
		logger:  logger,
	}
}

// InvoiceFolderPath returns the folder for an invoice without creating it
func (m *FolderManager) InvoiceFolderPath(issuerTaxID, accessKey string) string {
	issuer := SanitizeName(issuerTaxID)
	if issuer == "" {
		issuer = "unknown"
	}
	return filepath.Join(m.baseDir, issuer, SanitizeName(accessKey))
}

// CreateInvoiceFolder creates the invoice folder and returns its path
func (m *FolderManager) CreateInvoiceFolder(issuerTaxID, accessKey string) (string, error) {
	if SanitizeName(accessKey) == "" {
		return "", fmt.Errorf("cannot create folder: empty access key")
	}

	folderPath := m.InvoiceFolderPath(issuerTaxID, accessKey)
	if err := os.MkdirAll(folderPath, 0755); err != nil {
		m.logger.Error("Failed to create invoice folder",
			zap.String("access_key", accessKey),
			zap.String("folder_path", folderPath),
			zap.Error(err))
		return "", fmt.Errorf("failed to create folder: %w", err)
	}
	return folderPath, nil
}

// DocumentPath returns the path of a named document inside the invoice folder
func (m *FolderManager) DocumentPath(issuerTaxID, accessKey, name string) string {
	return filepath.Join(m.InvoiceFolderPath(issuerTaxID, accessKey), SanitizeName(name))
}

// FolderExists checks if the invoice folder already exists
func (m *FolderManager) FolderExists(issuerTaxID, accessKey string) bool {
	info, err := os.Stat(m.InvoiceFolderPath(issuerTaxID, accessKey))
	if err != nil {
		return false
	}
	return info.IsDir()
}

// DeleteInvoiceFolder removes an invoice folder and its contents. Deleting a
// missing folder succeeds.
func (m *FolderManager) DeleteInvoiceFolder(issuerTaxID, accessKey string) error {
	folderPath := m.InvoiceFolderPath(issuerTaxID, accessKey)
	if _, err := os.Stat(folderPath); os.IsNotExist(err) {
		return nil
	}

	if err := os.RemoveAll(folderPath); err != nil {
		m.logger.Error("Failed to delete invoice folder",
			zap.String("folder_path", folderPath),
			zap.Error(err))
		return fmt.Errorf("failed to delete folder: %w", err)
	}
	return nil
}

// SanitizeName returns a filesystem-safe single path element
func SanitizeName(name string) string {
	name = strings.ReplaceAll(name, "..", "")
	name = strings.ReplaceAll(name, "/", "")
	name = strings.ReplaceAll(name, "\\", "")
	return unsafeNameChars.ReplaceAllString(name, "")
}
