package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	cip "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
	"go.uber.org/zap"

	"github.com/yuu551/cognito-mfa-migration/internal/model"
)

// CognitoAPI is the subset of the Cognito user pool API the directory uses
type CognitoAPI interface {
	AdminGetUser(ctx context.Context, params *cip.AdminGetUserInput, optFns ...func(*cip.Options)) (*cip.AdminGetUserOutput, error)
	AdminCreateUser(ctx context.Context, params *cip.AdminCreateUserInput, optFns ...func(*cip.Options)) (*cip.AdminCreateUserOutput, error)
	AdminSetUserPassword(ctx context.Context, params *cip.AdminSetUserPasswordInput, optFns ...func(*cip.Options)) (*cip.AdminSetUserPasswordOutput, error)
	AdminDisableUser(ctx context.Context, params *cip.AdminDisableUserInput, optFns ...func(*cip.Options)) (*cip.AdminDisableUserOutput, error)
	AdminDeleteUser(ctx context.Context, params *cip.AdminDeleteUserInput, optFns ...func(*cip.Options)) (*cip.AdminDeleteUserOutput, error)
	AdminUpdateUserAttributes(ctx context.Context, params *cip.AdminUpdateUserAttributesInput, optFns ...func(*cip.Options)) (*cip.AdminUpdateUserAttributesOutput, error)
	ListUsers(ctx context.Context, params *cip.ListUsersInput, optFns ...func(*cip.Options)) (*cip.ListUsersOutput, error)
	AdminListGroupsForUser(ctx context.Context, params *cip.AdminListGroupsForUserInput, optFns ...func(*cip.Options)) (*cip.AdminListGroupsForUserOutput, error)
	AdminAddUserToGroup(ctx context.Context, params *cip.AdminAddUserToGroupInput, optFns ...func(*cip.Options)) (*cip.AdminAddUserToGroupOutput, error)
	DescribeUserPool(ctx context.Context, params *cip.DescribeUserPoolInput, optFns ...func(*cip.Options)) (*cip.DescribeUserPoolOutput, error)
}

// CognitoDirectory implements Directory on Cognito user pools.
// Store ids are user pool ids.
type CognitoDirectory struct {
	client CognitoAPI
	logger *zap.Logger
}

// NewCognitoDirectory loads the default AWS configuration for region
func NewCognitoDirectory(ctx context.Context, region string, logger *zap.Logger) (*CognitoDirectory, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return NewCognitoDirectoryWithClient(cip.NewFromConfig(cfg), logger), nil
}

// NewCognitoDirectoryWithClient wraps an existing client
func NewCognitoDirectoryWithClient(client CognitoAPI, logger *zap.Logger) *CognitoDirectory {
	return &CognitoDirectory{client: client, logger: logger}
}

func mapCognitoError(err error) error {
	var notFound *types.UserNotFoundException
	if errors.As(err, &notFound) {
		return ErrUserNotFound
	}
	var exists *types.UsernameExistsException
	if errors.As(err, &exists) {
		return ErrUserExists
	}
	var noPool *types.ResourceNotFoundException
	if errors.As(err, &noPool) {
		return fmt.Errorf("%w: %v", ErrStoreNotFound, err)
	}
	return err
}

func toAttributeTypes(attrs map[string]string) []types.AttributeType {
	out := make([]types.AttributeType, 0, len(attrs))
	for name, value := range attrs {
		out = append(out, types.AttributeType{Name: aws.String(name), Value: aws.String(value)})
	}
	return out
}

func fromAttributeTypes(attrs []types.AttributeType) map[string]string {
	out := make(map[string]string, len(attrs))
	for _, a := range attrs {
		out[aws.ToString(a.Name)] = aws.ToString(a.Value)
	}
	return out
}

// GetUser implements Directory
func (d *CognitoDirectory) GetUser(ctx context.Context, storeID, userID string) (*User, error) {
	out, err := d.client.AdminGetUser(ctx, &cip.AdminGetUserInput{
		UserPoolId: aws.String(storeID),
		Username:   aws.String(userID),
	})
	if err != nil {
		return nil, mapCognitoError(err)
	}
	user := &User{
		Username:   aws.ToString(out.Username),
		Attributes: fromAttributeTypes(out.UserAttributes),
		MFAFactors: out.UserMFASettingList,
		Enabled:    out.Enabled,
		Status:     string(out.UserStatus),
	}
	if out.UserCreateDate != nil {
		user.CreatedAt = *out.UserCreateDate
	}
	return user, nil
}

// CreateUser implements Directory. The welcome message is suppressed.
func (d *CognitoDirectory) CreateUser(ctx context.Context, storeID, userID string, attributes map[string]string, tempCredential string) error {
	_, err := d.client.AdminCreateUser(ctx, &cip.AdminCreateUserInput{
		UserPoolId:        aws.String(storeID),
		Username:          aws.String(userID),
		UserAttributes:    toAttributeTypes(attributes),
		TemporaryPassword: aws.String(tempCredential),
		MessageAction:     types.MessageActionTypeSuppress,
	})
	return mapCognitoError(err)
}

// SetPermanentCredential implements Directory
func (d *CognitoDirectory) SetPermanentCredential(ctx context.Context, storeID, userID, credential string) error {
	_, err := d.client.AdminSetUserPassword(ctx, &cip.AdminSetUserPasswordInput{
		UserPoolId: aws.String(storeID),
		Username:   aws.String(userID),
		Password:   aws.String(credential),
		Permanent:  true,
	})
	return mapCognitoError(err)
}

// DisableUser implements Directory
func (d *CognitoDirectory) DisableUser(ctx context.Context, storeID, userID string) error {
	_, err := d.client.AdminDisableUser(ctx, &cip.AdminDisableUserInput{
		UserPoolId: aws.String(storeID),
		Username:   aws.String(userID),
	})
	return mapCognitoError(err)
}

// DeleteUser implements Directory
func (d *CognitoDirectory) DeleteUser(ctx context.Context, storeID, userID string) error {
	_, err := d.client.AdminDeleteUser(ctx, &cip.AdminDeleteUserInput{
		UserPoolId: aws.String(storeID),
		Username:   aws.String(userID),
	})
	return mapCognitoError(err)
}

// UpdateAttributes implements Directory
func (d *CognitoDirectory) UpdateAttributes(ctx context.Context, storeID, userID string, attributes map[string]string) error {
	_, err := d.client.AdminUpdateUserAttributes(ctx, &cip.AdminUpdateUserAttributesInput{
		UserPoolId:     aws.String(storeID),
		Username:       aws.String(userID),
		UserAttributes: toAttributeTypes(attributes),
	})
	return mapCognitoError(err)
}

// ListUsers implements Directory
func (d *CognitoDirectory) ListUsers(ctx context.Context, storeID, pageToken string) (*UserPage, error) {
	input := &cip.ListUsersInput{
		UserPoolId: aws.String(storeID),
		Limit:      aws.Int32(DefaultPageSize),
	}
	if pageToken != "" {
		input.PaginationToken = aws.String(pageToken)
	}

	out, err := d.client.ListUsers(ctx, input)
	if err != nil {
		return nil, mapCognitoError(err)
	}

	page := &UserPage{NextPageToken: aws.ToString(out.PaginationToken)}
	for _, u := range out.Users {
		user := &User{
			Username:   aws.ToString(u.Username),
			Attributes: fromAttributeTypes(u.Attributes),
			Enabled:    u.Enabled,
			Status:     string(u.UserStatus),
		}
		for _, opt := range u.MFAOptions {
			user.MFAFactors = append(user.MFAFactors, string(opt.DeliveryMedium)+"_MFA")
		}
		if u.UserCreateDate != nil {
			user.CreatedAt = *u.UserCreateDate
		}
		page.Users = append(page.Users, user)
	}
	return page, nil
}

// ListGroupsForUser implements Directory and follows every page
func (d *CognitoDirectory) ListGroupsForUser(ctx context.Context, storeID, userID string) ([]string, error) {
	var groups []string
	var next *string
	for {
		out, err := d.client.AdminListGroupsForUser(ctx, &cip.AdminListGroupsForUserInput{
			UserPoolId: aws.String(storeID),
			Username:   aws.String(userID),
			NextToken:  next,
		})
		if err != nil {
			return nil, mapCognitoError(err)
		}
		for _, g := range out.Groups {
			groups = append(groups, aws.ToString(g.GroupName))
		}
		if aws.ToString(out.NextToken) == "" {
			return groups, nil
		}
		next = out.NextToken
	}
}

// AddUserToGroup implements Directory
func (d *CognitoDirectory) AddUserToGroup(ctx context.Context, storeID, userID, group string) error {
	_, err := d.client.AdminAddUserToGroup(ctx, &cip.AdminAddUserToGroupInput{
		UserPoolId: aws.String(storeID),
		Username:   aws.String(userID),
		GroupName:  aws.String(group),
	})
	return mapCognitoError(err)
}

// DescribeStore implements Directory
func (d *CognitoDirectory) DescribeStore(ctx context.Context, storeID string) (*StoreInfo, error) {
	out, err := d.client.DescribeUserPool(ctx, &cip.DescribeUserPoolInput{
		UserPoolId: aws.String(storeID),
	})
	if err != nil {
		return nil, mapCognitoError(err)
	}
	info := &StoreInfo{StoreID: storeID, MFAConfiguration: model.MFAConfigurationOff}
	if out.UserPool != nil && out.UserPool.MfaConfiguration != "" {
		info.MFAConfiguration = model.MFAConfiguration(out.UserPool.MfaConfiguration)
	}
	return info, nil
}
